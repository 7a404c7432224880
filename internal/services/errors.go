// Package services holds the bot's application logic: relaying media through
// the cache and dispatching inbound chat messages. This file centralizes the
// service-level error values so callers can check them with errors.Is.
//
// None of these errors reach the chat. The dispatcher reports them to its
// Observer, which logs and counts them.
package services

import "errors"

var (
	// ErrEmptyCache is returned by RelayRandom when the cache holds no media
	// other than the chat's previous random pick.
	ErrEmptyCache = errors.New("no cached media to choose from")

	// ErrInvalidRequest is returned when a relay request has no URL or chat.
	ErrInvalidRequest = errors.New("relay request needs a url and a chat id")
)
