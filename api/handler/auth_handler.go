package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"passvault/api/middleware"
	"passvault/internal/dto"
	"passvault/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

type AuthHandler struct {
	Service  *service.AuthService
	Validate *validator.Validate
	Logger   logrus.FieldLogger
}

func NewAuthHandler(svc *service.AuthService, validate *validator.Validate, logger logrus.FieldLogger) *AuthHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AuthHandler{
		Service:  svc,
		Validate: validate,
		Logger:   logger,
	}
}

// NewValidator reports fields by their JSON names.
func NewValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return validate
}

func (h *AuthHandler) Register(c echo.Context) error {
	var req dto.RegisterRequest
	if err := h.bind(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	input := service.RegisterInput{Email: req.Email, Username: req.Username, Password: req.Password}
	result, err := h.Service.Register(c.Request().Context(), input, c.RealIP())
	if err != nil {
		return h.writeServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, dto.RegisterResponse{
		UserID:    result.UserID,
		Token:     result.Token,
		ExpiresIn: result.ExpiresIn,
	})
}

func (h *AuthHandler) Login(c echo.Context) error {
	var req dto.LoginRequest
	if err := h.bind(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	input := service.LoginInput{
		Email:     req.Email,
		Password:  req.Password,
		TwoFACode: req.TwoFACode,
		IPAddress: c.RealIP(),
	}
	result, err := h.Service.Login(c.Request().Context(), input)
	if err != nil {
		return h.writeServiceError(c, err)
	}
	if result.PendingConfirmation {
		return c.JSON(http.StatusAccepted, dto.PendingLoginResponse{
			Status:  "pending_confirmation",
			UserID:  result.UserID,
			Message: "Please confirm your login from the link sent to your email.",
		})
	}
	return c.JSON(http.StatusOK, dto.LoginResponse{
		Token:     result.Token,
		UserID:    result.UserID,
		Username:  result.Username,
		ExpiresIn: result.ExpiresIn,
	})
}

func (h *AuthHandler) VerifyEmail(c echo.Context) error {
	token := strings.TrimSpace(c.QueryParam("token"))
	if token == "" {
		return writeError(c, http.StatusBadRequest, errors.New("token is required"))
	}
	if err := h.Service.VerifyEmail(c.Request().Context(), token); err != nil {
		return h.writeServiceError(c, err)
	}
	return writeMessage(c, http.StatusOK, "Email verified successfully")
}

func (h *AuthHandler) ConfirmLogin(c echo.Context) error {
	token := strings.TrimSpace(c.QueryParam("token"))
	if token == "" {
		return writeError(c, http.StatusBadRequest, errors.New("token is required"))
	}
	if err := h.Service.ConfirmLogin(c.Request().Context(), token); err != nil {
		return h.writeServiceError(c, err)
	}
	return writeMessage(c, http.StatusOK, "Login confirmed, you can now sign in")
}

func (h *AuthHandler) ResendVerification(c echo.Context) error {
	var req dto.ResendVerificationRequest
	if err := h.bind(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.Service.ResendVerification(c.Request().Context(), req.Email); err != nil {
		return h.writeServiceError(c, err)
	}
	return writeMessage(c, http.StatusOK, "Verification email sent")
}

func (h *AuthHandler) EnableTwoFA(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	result, err := h.Service.EnableMFA(c.Request().Context(), userID)
	if err != nil {
		return h.writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.EnableTwoFAResponse{
		QRCodeURL:  result.QRCodeURL,
		OTPAuthURL: result.OTPAuthURL,
		Secret:     result.Secret,
	})
}

func (h *AuthHandler) VerifyTwoFA(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	var req dto.TwoFACodeRequest
	if err := h.bind(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.Service.VerifyMFA(c.Request().Context(), userID, req.Token); err != nil {
		return h.writeServiceError(c, err)
	}
	return writeMessage(c, http.StatusOK, "Two-factor authentication verified")
}

func (h *AuthHandler) DisableTwoFA(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	var req dto.TwoFACodeRequest
	if err := h.bind(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.Service.DisableMFA(c.Request().Context(), userID, req.Token); err != nil {
		return h.writeServiceError(c, err)
	}
	return writeMessage(c, http.StatusOK, "Two-factor authentication disabled")
}

func (h *AuthHandler) UpdateSecurityInfo(c echo.Context) error {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	var req dto.UpdateSecurityInfoRequest
	if err := h.bind(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	pairs := dto.SecurityPairsToEntities(req.SecurityInfo)
	if err := h.Service.UpdateSecurityInfo(c.Request().Context(), userID, pairs); err != nil {
		return h.writeServiceError(c, err)
	}
	return writeMessage(c, http.StatusOK, "Security information updated")
}

func (h *AuthHandler) SecurityQuestions(c echo.Context) error {
	return c.JSON(http.StatusOK, dto.SecurityQuestionsResponse{Questions: service.SecurityQuestionCatalogue()})
}

func (h *AuthHandler) StartPasswordReset(c echo.Context) error {
	var req dto.StartPasswordResetRequest
	if err := h.bind(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	result, err := h.Service.StartPasswordReset(c.Request().Context(), service.StartResetInput{
		Email:     req.Email,
		TwoFACode: req.TwoFACode,
	})
	if err != nil {
		return h.writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.StartPasswordResetResponse{UserID: result.UserID, Questions: result.Questions})
}

func (h *AuthHandler) VerifySecurityInfo(c echo.Context) error {
	var req dto.VerifySecurityInfoRequest
	if err := h.bind(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	pairs := dto.SecurityPairsToEntities(req.ProvidedSecurityInfo)
	grant, err := h.Service.VerifySecurityInfo(c.Request().Context(), req.UserID, pairs)
	if err != nil {
		return h.writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.VerifySecurityInfoResponse{ResetToken: grant})
}

func (h *AuthHandler) CompletePasswordReset(c echo.Context) error {
	var req dto.CompletePasswordResetRequest
	if err := h.bind(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.Service.CompletePasswordReset(c.Request().Context(), req.ResetToken, req.NewPassword); err != nil {
		return h.writeServiceError(c, err)
	}
	return writeMessage(c, http.StatusOK, "Password has been reset")
}

func (h *AuthHandler) GetUser(c echo.Context) error {
	profile, err := h.Service.GetUser(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.UserResponseFromProfile(profile))
}

func (h *AuthHandler) UpdateUser(c echo.Context) error {
	var req dto.UpdateUserRequest
	if err := h.bind(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	profile, err := h.Service.UpdateUser(c.Request().Context(), c.Param("id"), service.UpdateUserInput{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		return h.writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.UserResponseFromProfile(profile))
}

func (h *AuthHandler) DeleteUser(c echo.Context) error {
	if err := h.Service.DeleteUser(c.Request().Context(), c.Param("id")); err != nil {
		return h.writeServiceError(c, err)
	}
	return writeMessage(c, http.StatusOK, "User deleted successfully")
}

func (h *AuthHandler) ServerTime(c echo.Context) error {
	now := h.Service.ServerTime().UTC()
	return c.JSON(http.StatusOK, dto.ServerTimeResponse{ServerTime: now, Unix: now.Unix()})
}

func (h *AuthHandler) bind(c echo.Context, target any) error {
	if err := decodeJSON(c, target); err != nil {
		return errors.New("invalid request body")
	}
	return h.validate(target)
}

func (h *AuthHandler) validate(payload any) error {
	if h.Validate == nil {
		return nil
	}
	err := h.Validate.Struct(payload)
	var fieldErrors validator.ValidationErrors
	if errors.As(err, &fieldErrors) && len(fieldErrors) > 0 {
		return errors.New(describeFieldError(fieldErrors[0]))
	}
	return err
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", fe.Field())
	case "len":
		return fmt.Sprintf("%s must be %s characters long", fe.Field(), fe.Param())
	case "numeric":
		return fmt.Sprintf("%s must contain only digits", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters long", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

func decodeJSON(c echo.Context, target any) error {
	decoder := json.NewDecoder(c.Request().Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty request body")
		}
		return err
	}
	return nil
}

func writeError(c echo.Context, status int, err error) error {
	return c.JSON(status, dto.MessageResponse{Message: err.Error()})
}

func writeMessage(c echo.Context, status int, message string) error {
	return c.JSON(status, dto.MessageResponse{Message: message})
}

func (h *AuthHandler) writeServiceError(c echo.Context, err error) error {
	status := StatusForKind(service.KindOf(err))
	if status == http.StatusInternalServerError {
		h.Logger.WithError(err).WithFields(logrus.Fields{
			"method": c.Request().Method,
			"path":   c.Path(),
		}).Error("request failed")
		return writeError(c, status, errors.New("internal server error"))
	}
	return writeError(c, status, err)
}

func StatusForKind(kind service.ErrorKind) int {
	switch kind {
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindDuplicate:
		return http.StatusConflict
	case service.KindAuthentication:
		return http.StatusUnauthorized
	case service.KindForbidden:
		return http.StatusForbidden
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindDelivery:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
