package config

import "testing"

func TestExpandEnv(t *testing.T) {
	t.Setenv("DARKROOM_TEST_SET", "real")
	t.Setenv("DARKROOM_TEST_EMPTY", "")
	t.Setenv("DARKROOM_TEST_A", "alice")
	t.Setenv("DARKROOM_TEST_B", "bob")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"set", "key: ${DARKROOM_TEST_SET}", "key: real"},
		{"unset", "key: ${DARKROOM_TEST_UNSET}", "key: "},
		{"default when unset", "key: ${DARKROOM_TEST_UNSET:-fallback}", "key: fallback"},
		{"default ignored when set", "key: ${DARKROOM_TEST_SET:-fallback}", "key: real"},
		{"default when empty", "key: ${DARKROOM_TEST_EMPTY:-fallback}", "key: fallback"},
		{"empty default", "key: ${DARKROOM_TEST_UNSET:-}", "key: "},
		{"multiple", "${DARKROOM_TEST_A}:${DARKROOM_TEST_B}", "alice:bob"},
		{"bare dollar untouched", "price: $5 and $HOME", "price: $5 and $HOME"},
		{"no vars", "no variables here", "no variables here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandEnv(tt.input); got != tt.want {
				t.Errorf("ExpandEnv(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestExpandEnv_StorageBlock(t *testing.T) {
	t.Setenv("STORAGE_URL", "https://project.example.com")
	t.Setenv("STORAGE_KEY", "service-key")

	got := ExpandEnv(`storage:
  backend: rest
  url: ${STORAGE_URL}
  api_key: ${STORAGE_KEY}
  bucket: ${STORAGE_BUCKET_UNSET_12345:-photos}`)
	want := `storage:
  backend: rest
  url: https://project.example.com
  api_key: service-key
  bucket: photos`

	if got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}
