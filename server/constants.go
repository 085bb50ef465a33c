package server

import (
	"time"

	"github.com/dotside-studios/nfc-presence-agent/buildinfo"
)

// mDNS service discovery
var (
	MDNSServiceType = "_nfc-presence._tcp"
	MDNSServiceName = buildinfo.DisplayName
	MDNSDomain      = "local."
)

// CORS configuration
const (
	CORSAllowOrigin  = "*"
	CORSAllowMethods = "GET, OPTIONS"
	CORSAllowHeaders = "Content-Type, Authorization"
)

const (
	// writeWait bounds a single WebSocket write.
	writeWait = 10 * time.Second
	// clientSendBuffer is the per-client outbound queue length. Senders block
	// once it is full.
	clientSendBuffer = 256
)
