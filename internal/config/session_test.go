package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRemembered_SetUser(t *testing.T) {
	tests := []struct {
		name     string
		start    Remembered
		userID   string
		wantOpen int
	}{
		{
			name:     "same user keeps channels",
			start:    Remembered{UserID: "alice", OpenChannels: []string{"c1", "c2"}},
			userID:   "alice",
			wantOpen: 2,
		},
		{
			name:     "new user forgets channels",
			start:    Remembered{UserID: "alice", OpenChannels: []string{"c1"}},
			userID:   "bob",
			wantOpen: 0,
		},
		{
			name:     "first login",
			start:    Remembered{},
			userID:   "alice",
			wantOpen: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := tt.start
			r.SetUser(tt.userID, "nick")
			if r.UserID != tt.userID {
				t.Errorf("UserID = %q, want %q", r.UserID, tt.userID)
			}
			if len(r.OpenChannels) != tt.wantOpen {
				t.Errorf("len(OpenChannels) = %d, want %d", len(r.OpenChannels), tt.wantOpen)
			}
			if r.UpdatedAt.IsZero() {
				t.Error("UpdatedAt not set")
			}
		})
	}
}

func TestRemembered_String(t *testing.T) {
	tests := []struct {
		name string
		r    Remembered
		want string
	}{
		{name: "empty", r: Remembered{}, want: "(no session)"},
		{name: "id only", r: Remembered{UserID: "alice"}, want: "alice"},
		{name: "with nickname", r: Remembered{UserID: "alice", Nickname: "Al"}, want: "Al (alice)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSessionStore_LoadMissing(t *testing.T) {
	store := NewSessionStore(filepath.Join(t.TempDir(), "session.yaml"))

	r, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !r.IsEmpty() {
		t.Errorf("Load() = %+v, want empty", r)
	}
}

func TestSessionStore_SaveLoadClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.yaml")
	store := NewSessionStore(path)

	r := &Remembered{}
	r.SetUser("alice", "Al")
	r.OpenChannels = []string{"chan-1"}
	if err := store.Save(r); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file mode = %o, want 600", perm)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.UserID != "alice" || loaded.Nickname != "Al" {
		t.Errorf("Load() = %+v", loaded)
	}
	if len(loaded.OpenChannels) != 1 || loaded.OpenChannels[0] != "chan-1" {
		t.Errorf("OpenChannels = %v", loaded.OpenChannels)
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("second Clear() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("session file still exists")
	}
}

func TestSessionStore_LoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	if err := os.WriteFile(path, []byte("user_id: [unterminated"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewSessionStore(path).Load(); err == nil {
		t.Error("Load() expected parse error")
	}
}
