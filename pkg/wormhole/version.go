package wormhole

// Version is the semantic version of the wormhole library.
// It can be overridden at build time using:
//
//	go build -ldflags "-X github.com/CVDpl/go-live-wormhole/pkg/wormhole.Version=0.3.1"
var Version = "0.3.0"
