package lib

import (
	"fmt"
	"runtime"

	"github.com/gravitational/trace"
	"github.com/hashicorp/go-version"
)

// PrintVersion prints the specified app version to STDOUT
func PrintVersion(appName string, appVersion string, gitref string) {
	if gitref != "" {
		fmt.Printf("%v v%v git:%v %v\n", appName, appVersion, gitref, runtime.Version())
	} else {
		fmt.Printf("%v v%v %v\n", appName, appVersion, runtime.Version())
	}
}

// AssertClientVersion returns an error if the client version is less than the
// minimum version the server declares it supports.
func AssertClientVersion(minVersion string, clientVersion string) error {
	required, err := version.NewVersion(minVersion)
	if err != nil {
		return trace.Wrap(err)
	}
	actual, err := version.NewVersion(clientVersion)
	if err != nil {
		return trace.Wrap(err)
	}
	if actual.LessThan(required) {
		return trace.Errorf("client version %s is less than %s", clientVersion, minVersion)
	}
	return nil
}
