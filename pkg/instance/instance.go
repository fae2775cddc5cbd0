package instance

import "os"

// GetID returns the process instance identifier used in startup logs. DYNO
// wins on Heroku-style hosts, then ASPY_INSTANCE_ID, then the hostname.
func GetID() string {
	for _, key := range []string{"DYNO", "ASPY_INSTANCE_ID"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
