package export

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordSheet(t *testing.T) {
	body, err := PasswordSheet([]PasswordRow{
		{Name: "Ann Lee", Email: "ann@x.com", Password: "Zx9!abcDEF12"},
		{Name: "Bo, Jr", Email: "bo@x.com", Password: "p"},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "name,email,password", lines[0])
	assert.Equal(t, "Ann Lee,ann@x.com,Zx9!abcDEF12", lines[1])
	assert.Equal(t, `"Bo, Jr",bo@x.com,p`, lines[2])
}

func TestResetFilename(t *testing.T) {
	assert.Equal(t, "reset_password_ann@x.com.csv", ResetFilename("ann@x.com"))
	assert.Equal(t, "reset_password_a_b_x.com.csv", ResetFilename("a\"b;x.com"))
}

func TestWriteAttachment(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteAttachment(w, "reset_password_ann@x.com.csv", []PasswordRow{{Name: "Ann", Email: "ann@x.com", Password: "pw"}}))

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="reset_password_ann@x.com.csv"`, w.Header().Get("Content-Disposition"))
	assert.Contains(t, w.Body.String(), "Ann,ann@x.com,pw")
}
