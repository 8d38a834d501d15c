// Package api holds the wire-level response vocabulary: stable numeric codes
// clients branch on, and the JSON envelope helpers handlers write with.
package api

import (
	"encoding/json"
	"net/http"
)

// Code is a stable application-level result code, independent of the HTTP
// status it ships with.
type Code int

const (
	CodeFoundUser               Code = 200
	CodeSavedPassword           Code = 201
	CodeSavedUserFileMetadata   Code = 202
	CodeSavedFileMetadata       Code = 203
	CodeSavedRegistrationToken  Code = 205
	CodeDeletedUser             Code = 206
	CodeResetOTPVerification    Code = 207
	CodeSavedResetPasswordToken Code = 208
	CodeDeletedToken            Code = 209
	CodeMediaAccessGranted      Code = 220

	CodeEmptyUsername            Code = 410
	CodeUsernameTaken            Code = 411
	CodeUserNotFound             Code = 412
	CodeInvalidUsernameToEdit    Code = 413
	CodeCantSaveUserFileMetadata Code = 414
	CodeCantSaveFileMetadata     Code = 415
	CodeInvalidFileKey           Code = 416
	CodeEmptyPassword            Code = 420
	CodeInvalidPassword          Code = 421
	CodeInvalidNewPassword       Code = 422
	CodeUnknownRegistrationToken Code = 430
	CodeInvalidOTP               Code = 431
	CodeMissingAuthorization     Code = 440
	CodeInvalidAuthorization     Code = 441
	CodeInvalidAuthorizationUser Code = 442
	CodeMissingMediaAuth         Code = 443
	CodeInvalidMediaAuth         Code = 444
	CodeInvalidRefreshToken      Code = 450
	CodeInvalidResetToken        Code = 459
	CodeInvalidRegistrationToken Code = 460 // doubles as "not authorized" on the privilege gate
	CodeUnknownResetToken        Code = 461
)

// Envelope is the {message, code} body most endpoints respond with.
type Envelope struct {
	Message string `json:"message"`
	Code    Code   `json:"code"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteMessage writes the standard envelope.
func WriteMessage(w http.ResponseWriter, status int, code Code, message string) {
	WriteJSON(w, status, Envelope{Message: message, Code: code})
}
