package awsutil

import (
	"errors"
	"fmt"
	"net"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
)

// Session returns an AWS session using the provided static credentials when
// both are set, otherwise the SDK default chain (env, shared config, role).
func Session(region, accessKey, secretKey string) (*session.Session, error) {
	cfg := aws.NewConfig().WithRegion(region)
	if accessKey != "" && secretKey != "" {
		cfg = cfg.WithCredentials(credentials.NewStaticCredentials(accessKey, secretKey, ""))
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	return sess, nil
}

// IsNetworkError reports whether err is a transport-level failure rather than
// a service response.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := err.(awserr.Error); ok {
		switch e.Code() {
		case request.ErrCodeRequestError, request.ErrCodeResponseTimeout, "RequestTimeout":
			return true
		}
		if e.OrigErr() != nil {
			return IsNetworkError(e.OrigErr())
		}
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
