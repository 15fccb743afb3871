// Splitsync - Feature Flag Synchronization Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/splitsync

// Package validation provides struct validation using go-playground/validator v10.
//
// This package wraps the go-playground/validator library to provide a thread-safe
// singleton validator instance with custom validators and user-friendly error
// messages. Configuration structs are validated through it at load time.
//
// # Overview
//
// The package provides:
//   - Thread-safe singleton validator (initialized once, cached struct info)
//   - Field names reported by their koanf path (core.sdk_key, not SDKKey)
//   - Error translation to human-readable messages
//   - WithRequiredStructEnabled for forward compatibility
//
// # Custom Validation Tags
//
//   - httpurl: absolute http or https URL with a host
//   - loglevel: a level name accepted by the logging package
//
// # Quick Start
//
//	type URLsConfig struct {
//	    SDK  string `koanf:"sdk" validate:"required,httpurl"`
//	    Auth string `koanf:"auth" validate:"required,httpurl"`
//	}
//
//	if verr := validation.ValidateStruct(&cfg); verr != nil {
//	    for _, fe := range verr.Errors() {
//	        fmt.Println(fe.Field(), fe.Tag())
//	    }
//	}
//
// # Thread Safety
//
// GetValidator and ValidateStruct are safe for concurrent use.
package validation
