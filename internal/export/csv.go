// Package export renders password-reset sheets as CSV attachments.
package export

import (
	"bytes"
	"fmt"
	"net/http"
	"regexp"

	"github.com/gocarina/gocsv"
)

// PasswordRow is one line of a password sheet. Column order is fixed.
type PasswordRow struct {
	Name     string `csv:"name"`
	Email    string `csv:"email"`
	Password string `csv:"password"`
}

func PasswordSheet(rows []PasswordRow) ([]byte, error) {
	var buf bytes.Buffer
	if err := gocsv.Marshal(rows, &buf); err != nil {
		return nil, fmt.Errorf("failed to render csv: %w", err)
	}
	return buf.Bytes(), nil
}

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._@-]`)

// ResetFilename returns reset_password_<email>.csv with header-unsafe characters replaced.
func ResetFilename(email string) string {
	return "reset_password_" + unsafeFilenameChars.ReplaceAllString(email, "_") + ".csv"
}

// WriteAttachment sends rows as a downloadable CSV file.
func WriteAttachment(w http.ResponseWriter, filename string, rows []PasswordRow) error {
	body, err := PasswordSheet(rows)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(body)
	return err
}
