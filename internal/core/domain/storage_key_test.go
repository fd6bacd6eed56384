package domain

import (
	"testing"
	"time"
)

func TestStorageKeyLayout(t *testing.T) {
	at := time.Unix(1_700_000_000, 0)
	cases := []struct {
		user, filename, want string
	}{
		{"u-1", "book.pdf", "u-1/1700000000/book.pdf"},
		{"", "notes.md", "anonymous/1700000000/notes.md"},
		{"team/a", "../../secret.txt", "team_a/1700000000/secret.txt"},
		{"u-1", `C:\docs\report.docx`, "u-1/1700000000/report.docx"},
		{"u-1", "", "u-1/1700000000/document"},
	}
	for _, tc := range cases {
		if got := StorageKey(tc.user, tc.filename, at); got != tc.want {
			t.Fatalf("StorageKey(%q, %q) = %q, want %q", tc.user, tc.filename, got, tc.want)
		}
	}
}
