package models

import "time"

// NoticeLevel is the severity of a user visible notice
type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
)

// Notice is a user visible notification
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
	Time    time.Time   `json:"time"`
}
