package config

import "fmt"

// CurrentVersion is the configuration format this build reads. Files without
// a version field are treated as current.
const CurrentVersion = 1

// VersionError reports a config file written for another format version.
type VersionError struct {
	Version int
}

func (e *VersionError) Error() string {
	if e == nil {
		return ""
	}
	if e.Version > CurrentVersion {
		return fmt.Sprintf("config version %d requires a newer warden (this build reads version %d)", e.Version, CurrentVersion)
	}
	return fmt.Sprintf("config version %d is not supported (this build reads version %d)", e.Version, CurrentVersion)
}

// Newer reports whether the file targets a later build.
func (e *VersionError) Newer() bool {
	return e != nil && e.Version > CurrentVersion
}

// ValidateVersion accepts only CurrentVersion; callers default an unset
// version before validating.
func ValidateVersion(version int) error {
	if version != CurrentVersion {
		return &VersionError{Version: version}
	}
	return nil
}
