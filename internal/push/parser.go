// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

package push

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/splitsync/internal/models"
	"github.com/tomtom215/splitsync/internal/sse"
)

// occupancyName is the message name of occupancy notifications.
const occupancyName = "[meta]occupancy"

// ErrUnknownNotification is returned for a message whose type is not handled.
var ErrUnknownNotification = errors.New("push: unknown notification type")

// message is the envelope of a streaming message.
type message struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Channel   string `json:"channel"`
	Timestamp int64  `json:"timestamp"`
	Data      string `json:"data"`
}

// notificationData is the union of the fields of every update type.
type notificationData struct {
	Type models.NotificationType `json:"type"`

	// SPLIT_UPDATE, SPLIT_KILL, SEGMENT_UPDATE
	ChangeNumber         int64  `json:"changeNumber"`
	PreviousChangeNumber *int64 `json:"pcn"`
	SplitName            string `json:"splitName"`
	DefaultTreatment     string `json:"defaultTreatment"`
	SegmentName          string `json:"segmentName"`

	// MEMBERSHIPS_MS_UPDATE, MEMBERSHIPS_LS_UPDATE
	CN       int64    `json:"cn"`
	Names    []string `json:"n"`
	Strategy int      `json:"u"`
	Interval int64    `json:"i"`
	Algo     int      `json:"h"`
	Seed     uint32   `json:"s"`

	Compression int    `json:"c"`
	Payload     string `json:"d"`

	// CONTROL
	ControlType models.ControlType `json:"controlType"`
}

type occupancyData struct {
	Metrics struct {
		Publishers int `json:"publishers"`
	} `json:"metrics"`
}

// ParseMessage decodes a streaming event into a notification. It returns
// nil without error for events that carry no data.
func ParseMessage(e sse.Event) (models.Notification, error) {
	if strings.TrimSpace(e.Data) == "" {
		return nil, nil
	}

	var msg message
	if err := json.Unmarshal([]byte(e.Data), &msg); err != nil {
		return nil, fmt.Errorf("failed to decode message envelope: %w", err)
	}
	if msg.Data == "" {
		return nil, nil
	}

	env := models.Envelope{
		Channel:   strings.TrimPrefix(msg.Channel, sse.OccupancyPrefix),
		Timestamp: msg.Timestamp,
	}

	if msg.Name == occupancyName {
		var occ occupancyData
		if err := json.Unmarshal([]byte(msg.Data), &occ); err != nil {
			return nil, fmt.Errorf("failed to decode occupancy: %w", err)
		}
		return &models.Occupancy{Envelope: env, Publishers: occ.Metrics.Publishers}, nil
	}

	var d notificationData
	if err := json.Unmarshal([]byte(msg.Data), &d); err != nil {
		return nil, fmt.Errorf("failed to decode notification: %w", err)
	}

	switch d.Type {
	case models.TypeSplitUpdate:
		return &models.SplitUpdate{
			Envelope:             env,
			ChangeNumber:         d.ChangeNumber,
			PreviousChangeNumber: d.PreviousChangeNumber,
			Compression:          models.Compression(d.Compression),
			Data:                 d.Payload,
		}, nil
	case models.TypeSplitKill:
		return &models.SplitKill{
			Envelope:         env,
			ChangeNumber:     d.ChangeNumber,
			SplitName:        d.SplitName,
			DefaultTreatment: d.DefaultTreatment,
		}, nil
	case models.TypeSegmentUpdate:
		return &models.SegmentUpdate{Envelope: env, ChangeNumber: d.ChangeNumber, SegmentName: d.SegmentName}, nil
	case models.TypeMembershipsMSUpdate, models.TypeMembershipsLSUpdate:
		return &models.MembershipsUpdate{
			Envelope:     env,
			Kind:         d.Type,
			ChangeNumber: d.CN,
			Strategy:     models.UpdateStrategy(d.Strategy),
			Compression:  models.Compression(d.Compression),
			Data:         d.Payload,
			Names:        d.Names,
			HashSeed:     d.Seed,
			Algorithm:    d.Algo,
			Interval:     d.Interval,
		}, nil
	case models.TypeControl:
		return &models.Control{Envelope: env, ControlType: d.ControlType}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownNotification, d.Type)
}

// ablyError is the error body of the streaming server, either bare or
// wrapped in an "error" object.
type ablyError struct {
	Message    string     `json:"message"`
	Code       int        `json:"code"`
	StatusCode int        `json:"statusCode"`
	Wrapped    *ablyError `json:"error"`
}

// parseStreamError extracts the streaming server error of err, if any.
func parseStreamError(err error) (*ablyError, bool) {
	var body string
	var ev *sse.ErrorEvent
	var se *sse.StatusError
	switch {
	case errors.As(err, &ev):
		body = ev.Data
	case errors.As(err, &se):
		body = se.Body
	default:
		return nil, false
	}

	var ae ablyError
	if json.Unmarshal([]byte(body), &ae) != nil {
		return nil, false
	}
	if ae.Wrapped != nil {
		ae = *ae.Wrapped
	}
	if ae.Code == 0 {
		return nil, false
	}
	return &ae, true
}

// isRetryableStreamError classifies a transport error. Token errors
// (40140-40149) are retryable with a new token; other 4xxxx codes are not.
// Network and server errors are retryable.
func isRetryableStreamError(err error) bool {
	ae, ok := parseStreamError(err)
	if !ok {
		return true
	}
	if ae.Code >= 40140 && ae.Code <= 40149 {
		return true
	}
	if ae.Code >= 40000 && ae.Code <= 49999 {
		return false
	}
	return true
}
