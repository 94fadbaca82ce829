package rpc

import "google.golang.org/grpc"

// DialOption returns the client dial option that selects this package's
// JSON codec for every call, in place of the default proto codec.
func DialOption() grpc.DialOption {
	return grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName))
}
