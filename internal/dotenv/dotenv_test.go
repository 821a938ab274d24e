package dotenv

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFileMissingFileIsNoop(t *testing.T) {
	t.Parallel()
	if err := LoadFile(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("LoadFile on a missing file: %v", err)
	}
}

func TestLoadFileAppliesValuesWithoutOverwriting(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	content := "" +
		"# local overrides\n" +
		"KIN_TEST_PLAIN=gateway\n" +
		"KIN_TEST_QUOTED=\"spaced value\"\n" +
		"export KIN_TEST_EXPORTED=yes\n" +
		"KIN_TEST_TAKEN=file-loses\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	// t.Setenv registers cleanup for every key the file may touch.
	for _, key := range []string{"KIN_TEST_PLAIN", "KIN_TEST_QUOTED", "KIN_TEST_EXPORTED"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	t.Setenv("KIN_TEST_TAKEN", "env-wins")

	if err := LoadFile(envPath); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	want := map[string]string{
		"KIN_TEST_PLAIN":    "gateway",
		"KIN_TEST_QUOTED":   "spaced value",
		"KIN_TEST_EXPORTED": "yes",
		"KIN_TEST_TAKEN":    "env-wins",
	}
	for key, val := range want {
		if got := os.Getenv(key); got != val {
			t.Errorf("%s = %q, want %q", key, got, val)
		}
	}
}
