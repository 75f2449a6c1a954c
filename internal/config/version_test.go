package config

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateVersion(t *testing.T) {
	tests := []struct {
		name      string
		version   int
		wantErr   bool
		wantNewer bool
		wantHint  string
	}{
		{name: "current", version: CurrentVersion},
		{name: "zero", version: 0, wantErr: true, wantHint: "not supported"},
		{name: "negative", version: -1, wantErr: true, wantHint: "not supported"},
		{name: "newer", version: CurrentVersion + 1, wantErr: true, wantNewer: true, wantHint: "newer warden"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVersion(tt.version)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("ValidateVersion(%d) = %v", tt.version, err)
				}
				return
			}
			var ve *VersionError
			if !errors.As(err, &ve) {
				t.Fatalf("expected *VersionError, got %T", err)
			}
			if ve.Newer() != tt.wantNewer {
				t.Errorf("Newer() = %v, want %v", ve.Newer(), tt.wantNewer)
			}
			if !strings.Contains(ve.Error(), tt.wantHint) {
				t.Errorf("Error() = %q, want hint %q", ve.Error(), tt.wantHint)
			}
		})
	}
}

func TestDefault_VersionIsCurrent(t *testing.T) {
	cfg := Default()
	if cfg.Version != CurrentVersion {
		t.Fatalf("default Version = %d, want %d", cfg.Version, CurrentVersion)
	}
}
