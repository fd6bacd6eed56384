package domain

import (
	"path"
	"strconv"
	"strings"
	"time"
)

// StorageKey builds the object key {user}/{unix-seconds}/{filename}.
func StorageKey(userID, filename string, at time.Time) string {
	user := strings.TrimSpace(userID)
	if user == "" {
		user = "anonymous"
	}
	user = strings.ReplaceAll(user, "/", "_")

	name := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "document"
	}
	return user + "/" + strconv.FormatInt(at.Unix(), 10) + "/" + name
}
