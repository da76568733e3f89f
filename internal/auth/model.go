package auth

type AdminLoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type StudentLoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	DeviceID string `json:"deviceId" validate:"required,max=200"`
}

type AdminLoginResponse struct {
	Token string `json:"token"`
}

type StudentLoginResponse struct {
	Token     string `json:"token"`
	Name      string `json:"name"`
	StudentID int64  `json:"studentId"`
}
