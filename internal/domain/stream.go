package domain

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/bluenviron/gortsplib/v4/pkg/base"
)

var streamIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateStreamID rejects identifiers that are unsafe as directory names.
func ValidateStreamID(streamID string) error {
	if !streamIDPattern.MatchString(streamID) {
		return fmt.Errorf("%w: %q is not a valid stream id", ErrInvalidIdentifier, streamID)
	}
	return nil
}

// ValidateRTSPURL checks that rawURL is a well-formed rtsp:// or rtsps:// URL
// with a host. Credentials, when present, must carry both user and password.
func ValidateRTSPURL(rawURL string) error {
	if !strings.HasPrefix(rawURL, "rtsp://") && !strings.HasPrefix(rawURL, "rtsps://") {
		return fmt.Errorf("%w: url must start with rtsp:// or rtsps://", ErrInvalidSource)
	}

	u, err := base.ParseURL(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: url has no host", ErrInvalidSource)
	}

	if u.User != nil {
		pass, _ := u.User.Password()
		user := u.User.Username()
		if user != "" && pass == "" || user == "" && pass != "" {
			return fmt.Errorf("%w: username and password must be both provided", ErrInvalidSource)
		}
	}
	return nil
}

// redactedUnparseable stands in for a URL whose credentials cannot be located.
const redactedUnparseable = "<unparseable url>"

// RedactURL hides the password of a source URL for logging.
func RedactURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := base.ParseURL(rawURL)
	if err != nil {
		return redactedUnparseable
	}
	if u.User == nil {
		return rawURL
	}
	return (*url.URL)(u).Redacted()
}
