package instance

import "os"

// ID names the running process in logs. BOOKSHOP_INSTANCE_ID wins, then the
// platform dyno name, then the host name.
func ID() string {
	for _, key := range []string{"BOOKSHOP_INSTANCE_ID", "DYNO"} {
		if id := os.Getenv(key); id != "" {
			return id
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
