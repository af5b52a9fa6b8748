package commands

import (
	"context"
	"errors"

	"github.com/wonny/optchain/internal/contracts"
	"github.com/wonny/optchain/pkg/config"
)

// Exit codes
const (
	ExitOK          = 0
	ExitLogical     = 1 // QA FAIL, 전 심볼 실패 등
	ExitEnvironment = 2 // 게이트웨이 불가, 설정 오류, 쓰기 실패
)

// errEnvironment marks a failed self-check
var errEnvironment = errors.New("environment check failed")

// ExitCode maps a command error to the process exit code
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, contracts.ErrQAFail):
		return ExitLogical
	case errors.Is(err, contracts.ErrGatewayUnavailable),
		errors.Is(err, contracts.ErrTimeout),
		errors.Is(err, contracts.ErrWrite),
		errors.Is(err, config.ErrConfig),
		errors.Is(err, errEnvironment),
		errors.Is(err, context.Canceled):
		return ExitEnvironment
	default:
		return ExitLogical
	}
}
