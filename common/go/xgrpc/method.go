package xgrpc

import (
	"errors"
	"strings"
)

var errMethodFormat = errors.New("method name must be in format `/package.service/method`")

// ParseFullMethod splits a full gRPC method name into its service and
// method parts.
//
// For example, `/neighpb.Neighbour/Flush` is split into `neighpb.Neighbour`
// and `Flush`.
func ParseFullMethod(fullMethod string) (string, string, error) {
	name, ok := strings.CutPrefix(fullMethod, "/")
	if !ok {
		return "", "", errMethodFormat
	}

	pos := strings.LastIndex(name, "/")
	if pos <= 0 || pos == len(name)-1 {
		return "", "", errMethodFormat
	}

	return name[:pos], name[pos+1:], nil
}
