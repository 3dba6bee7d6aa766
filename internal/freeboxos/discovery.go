package freeboxos

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// discoveryRetryDelay is the delay between two api_version probes.
const discoveryRetryDelay = 2 * time.Second

// APIInfo is the reply of GET /api_version.
type APIInfo struct {
	BoxModelName   string `json:"box_model_name"`
	APIBaseURL     string `json:"api_base_url"`
	HTTPSPort      int    `json:"https_port"`
	DeviceName     string `json:"device_name"`
	HTTPSAvailable bool   `json:"https_available"`
	BoxModel       string `json:"box_model"`
	APIDomain      string `json:"api_domain"`
	UID            string `json:"uid"`
	APIVersion     string `json:"api_version"`
	DeviceType     string `json:"device_type"`

	// BaseURL is the versioned HTTP API root.
	BaseURL string `json:"-"`

	// HTTPSBaseURL is the versioned HTTPS API root, empty when the box
	// does not expose HTTPS.
	HTTPSBaseURL string `json:"-"`
}

// MajorVersion returns the major part of APIVersion ("8.2" -> "8").
func (a *APIInfo) MajorVersion() string {
	major, _, _ := strings.Cut(a.APIVersion, ".")
	return major
}

// DiscoverAPI locates the versioned API root of the box at address.
//
// The probe is repeated every two seconds until it succeeds or ctx is done,
// so the bridge can start before the box has finished booting.
func DiscoverAPI(ctx context.Context, transport Transport, address string, logger Logger) (*APIInfo, error) {
	logger = loggerOrNop(logger)
	url := "http://" + address + "/api_version"

	for {
		info, err := probeAPI(ctx, transport, url)
		if err == nil {
			info.BaseURL = fmt.Sprintf("http://%s%sv%s", address, info.APIBaseURL, info.MajorVersion())
			if info.HTTPSAvailable && info.APIDomain != "" && info.HTTPSPort != 0 {
				info.HTTPSBaseURL = fmt.Sprintf("https://%s:%d%sv%s",
					info.APIDomain, info.HTTPSPort, info.APIBaseURL, info.MajorVersion())
			}
			logger.Info("freebox api discovered",
				"model", info.BoxModelName,
				"api_version", info.APIVersion,
				"base_url", info.BaseURL)
			return info, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		logger.Warn("freebox api discovery failed, retrying",
			"address", address,
			"error", err)
		if err := sleepContext(ctx, discoveryRetryDelay); err != nil {
			return nil, err
		}
	}
}

func probeAPI(ctx context.Context, transport Transport, url string) (*APIInfo, error) {
	res, err := transport.Do(ctx, MethodGet, url, nil, nil)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, &APIError{Kind: ErrUnexpectedStatus, StatusCode: res.StatusCode}
	}

	var info APIInfo
	if err := json.Unmarshal(res.Data, &info); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidReply, err)
	}
	if info.APIBaseURL == "" || info.APIVersion == "" {
		return nil, fmt.Errorf("%w: api_version reply is incomplete", ErrInvalidReply)
	}
	return &info, nil
}
