package intercept

import (
	"errors"
	"fmt"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "INTERCEPTED"

// ErrInvalidConfig is returned when the transport is missing required options.
var ErrInvalidConfig = errors.New("invalid intercept configuration")

// Config controls how messages are rewritten before delegation.
type Config struct {
	// Transport names the delegate provider in the Resolver.
	Transport string `yaml:"transport"`

	// To is the address every message is redirected to.
	To string `yaml:"to"`

	// SubjectPrefix is prepended to the subject. A bare value is wrapped in
	// brackets; a value that is already bracketed is used as is.
	SubjectPrefix string `yaml:"subject_prefix"`

	// IncludeOriginalInSubject appends the original To list to the subject.
	IncludeOriginalInSubject bool `yaml:"include_original_in_subject"`

	// LogInterceptions writes one info entry per intercepted message.
	LogInterceptions bool `yaml:"log_interceptions"`
}

// DefaultConfig returns a Config with the optional fields at their defaults.
// Transport and To are left empty.
func DefaultConfig() Config {
	return Config{
		SubjectPrefix:            DefaultSubjectPrefix,
		IncludeOriginalInSubject: true,
		LogInterceptions:         true,
	}
}

// Validate checks that the delegate and intercept address are set.
func (c Config) Validate() error {
	if c.Transport == "" {
		return fmt.Errorf(`%w: "transport" option is required to specify the underlying transport`, ErrInvalidConfig)
	}
	if c.To == "" {
		return fmt.Errorf(`%w: "to" option is required to specify the intercept email address`, ErrInvalidConfig)
	}
	return nil
}
