package provider

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/google/uuid"
)

var processInstanceID = uuid.NewString()

// DeviceSignature is a best-effort composite of client environment
// attributes sent alongside credential-issuing requests. The server may use
// it to correlate an anonymous request with a prior session; it is derived
// data, recomputed per request, and never authorization by itself.
type DeviceSignature struct {
	Hostname       string `json:"hostname,omitempty"`
	Platform       string `json:"platform"`
	Arch           string `json:"arch"`
	CPUs           int    `json:"cpus"`
	TimezoneOffset int    `json:"tz_offset"`
	Locale         string `json:"locale,omitempty"`
	Instance       string `json:"instance"`
}

// NewDeviceSignature samples the current environment.
func NewDeviceSignature() DeviceSignature {
	hostname, _ := os.Hostname()
	_, offset := time.Now().Zone()

	locale := os.Getenv("LC_ALL")
	if locale == "" {
		locale = os.Getenv("LANG")
	}

	return DeviceSignature{
		Hostname:       hostname,
		Platform:       runtime.GOOS,
		Arch:           runtime.GOARCH,
		CPUs:           runtime.NumCPU(),
		TimezoneOffset: offset / 60,
		Locale:         locale,
		Instance:       processInstanceID,
	}
}

// Fingerprint collapses the signature into a stable hex digest for
// transports that carry a single value.
func (s DeviceSignature) Fingerprint() string {
	canonical := fmt.Sprintf("%s|%s|%s|%d|%d|%s|%s",
		s.Hostname, s.Platform, s.Arch, s.CPUs, s.TimezoneOffset, s.Locale, s.Instance)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// Query renders the signature as URL parameters for bearer-less probes.
func (s DeviceSignature) Query() url.Values {
	q := url.Values{}
	q.Set("device_fingerprint", s.Fingerprint())
	q.Set("device_platform", s.Platform)
	q.Set("device_arch", s.Arch)
	q.Set("device_cpus", strconv.Itoa(s.CPUs))
	q.Set("device_tz_offset", strconv.Itoa(s.TimezoneOffset))
	if s.Locale != "" {
		q.Set("device_locale", s.Locale)
	}
	q.Set("device_instance", s.Instance)
	return q
}
