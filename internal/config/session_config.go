package config

import "time"

type SessionConfig interface {
	GetRefreshInterval() time.Duration
	GetVerifyInterval() time.Duration
	GetInactivityTimeout() time.Duration
	GetActivityThrottle() time.Duration
	GetLongAbsenceThreshold() time.Duration
	GetCrossTabDebounce() time.Duration
	GetReconnectMarkerTTL() time.Duration
	GetExpiryWarningLead() time.Duration
	GetRefreshSkew() time.Duration
	GetCallTimeout() time.Duration
}

// Session resolves session timings: environment first, then the optional
// config file, then the defaults below.
type Session struct {
	file sessionFile
}

var _ SessionConfig = Session{}

func (s Session) GetRefreshInterval() time.Duration {
	return resolve("SESSION_REFRESH_INTERVAL", s.file.RefreshInterval, 15*time.Minute)
}

func (s Session) GetVerifyInterval() time.Duration {
	return resolve("SESSION_VERIFY_INTERVAL", s.file.VerifyInterval, 5*time.Minute)
}

// GetInactivityTimeout is the single authoritative idle window. The
// 3 hour detector variant is not supported.
func (s Session) GetInactivityTimeout() time.Duration {
	return resolve("SESSION_INACTIVITY_TIMEOUT", s.file.InactivityTimeout, 30*time.Minute)
}

func (s Session) GetActivityThrottle() time.Duration {
	return resolve("SESSION_ACTIVITY_THROTTLE", s.file.ActivityThrottle, 2*time.Second)
}

// GetLongAbsenceThreshold defaults to half the inactivity window.
func (s Session) GetLongAbsenceThreshold() time.Duration {
	return resolve("SESSION_LONG_ABSENCE", s.file.LongAbsence, s.GetInactivityTimeout()/2)
}

func (s Session) GetCrossTabDebounce() time.Duration {
	return resolve("SESSION_CROSSTAB_DEBOUNCE", s.file.CrossTabDebounce, 2*time.Second)
}

func (s Session) GetReconnectMarkerTTL() time.Duration {
	return resolve("SESSION_RECONNECT_TTL", s.file.ReconnectTTL, 5*time.Second)
}

func (s Session) GetExpiryWarningLead() time.Duration {
	return resolve("SESSION_WARNING_LEAD", s.file.WarningLead, 5*time.Minute)
}

func (s Session) GetRefreshSkew() time.Duration {
	return resolve("SESSION_REFRESH_SKEW", s.file.RefreshSkew, time.Minute)
}

func (s Session) GetCallTimeout() time.Duration {
	return resolve("SESSION_CALL_TIMEOUT", s.file.CallTimeout, 10*time.Second)
}

func resolve(envVar string, fileValue Duration, defaultValue time.Duration) time.Duration {
	if fileValue > 0 {
		defaultValue = time.Duration(fileValue)
	}
	return GetEnvDuration(envVar, defaultValue)
}
