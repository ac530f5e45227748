package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.Equal(t, uint64(DefaultMaxRetries), cfg.MaxRetries, "MaxRetries should match DefaultMaxRetries constant.")
	require.Equal(t, InitialBackoffInterval, cfg.InitialInterval, "InitialInterval should match constant.")
	require.Equal(t, MaxBackoffInterval, cfg.MaxInterval, "MaxInterval should match constant.")
	require.Nil(t, cfg.Logger)
}

func TestNewBackOffPolicy(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		MaxRetries:      5,
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
	}

	bo := newBackOffPolicy(ctx, cfg)
	require.NotNil(t, bo)
	require.Equal(t, ctx, bo.Context())
}

func TestDo(t *testing.T) {
	// テスト用の高速な設定
	testCfg := Config{MaxRetries: 3, InitialInterval: 1 * time.Millisecond, MaxInterval: 10 * time.Millisecond}
	opName := "test_operation"

	permanentErr := errors.New("permanent error")
	maxRetriesErrText := fmt.Sprintf("%sに失敗しました: 最大リトライ回数 (%d回) に到達。最終エラー: retryable error", opName, testCfg.MaxRetries)

	// failing は常に msg のエラーを返す Operation を生成します。
	failing := func(msg string) func(calls *int) Operation {
		return func(calls *int) Operation {
			return func() error {
				*calls++
				return errors.New(msg)
			}
		}
	}

	tests := []struct {
		name          string
		ctx           context.Context
		cfg           Config
		operation     func(calls *int) Operation
		shouldRetry   ShouldRetryFunc
		expectedError string
		containsError bool
		expectedIs    error
		expectedCalls int
	}{
		{
			name: "successful operation",
			ctx:  context.Background(),
			cfg:  testCfg,
			operation: func(calls *int) Operation {
				return func() error {
					*calls++
					return nil
				}
			},
			shouldRetry:   func(err error) bool { return false },
			expectedCalls: 1,
		},
		{
			name: "retryable error and success within max retries",
			ctx:  context.Background(),
			cfg:  testCfg,
			operation: func(calls *int) Operation {
				return func() error {
					*calls++
					if *calls < 3 {
						return errors.New("retryable error")
					}
					return nil
				}
			},
			shouldRetry:   func(err error) bool { return err.Error() == "retryable error" },
			expectedCalls: 3,
		},
		{
			name: "permanent error is returned unwrapped",
			ctx:  context.Background(),
			cfg:  testCfg,
			operation: func(calls *int) Operation {
				return func() error {
					*calls++
					return permanentErr
				}
			},
			shouldRetry:   func(err error) bool { return false },
			expectedError: "permanent error",
			expectedIs:    permanentErr,
			expectedCalls: 1,
		},
		{
			name:          "context canceled",
			ctx:           func() context.Context { ctx, cancel := context.WithCancel(context.Background()); cancel(); return ctx }(),
			cfg:           testCfg,
			operation:     failing("some error"),
			shouldRetry:   func(err error) bool { return true },
			expectedError: "test_operationに失敗しました: コンテキストタイムアウト/キャンセル: context canceled",
			containsError: true,
			expectedIs:    context.Canceled,
			expectedCalls: 1,
		},
		{
			name:          "max retries exceeded",
			ctx:           context.Background(),
			cfg:           testCfg,
			operation:     failing("retryable error"),
			shouldRetry:   func(err error) bool { return true },
			expectedError: maxRetriesErrText,
			expectedCalls: 4, // 初回 + 3回リトライ
		},
		{
			name:          "zero retries returns the error as is",
			ctx:           context.Background(),
			cfg:           Config{MaxRetries: 0, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
			operation:     failing("retryable error"),
			shouldRetry:   func(err error) bool { return true },
			expectedError: "retryable error",
			expectedCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Do(tt.ctx, tt.cfg, opName, tt.operation(&calls), tt.shouldRetry)

			require.Equal(t, tt.expectedCalls, calls)
			if tt.expectedError == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tt.containsError {
				require.Contains(t, err.Error(), tt.expectedError)
			} else {
				require.Equal(t, tt.expectedError, err.Error())
			}
			if tt.expectedIs != nil {
				require.ErrorIs(t, err, tt.expectedIs)
			}
		})
	}
}

func TestDo_LogsEachRetry(t *testing.T) {
	logger, hook := test.NewNullLogger()
	cfg := Config{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Logger: logger}

	err := Do(context.Background(), cfg, "logged_operation", func() error {
		return errors.New("flaky")
	}, func(error) bool { return true })

	require.Error(t, err)
	require.Len(t, hook.AllEntries(), 2)
	require.Contains(t, hook.LastEntry().Message, "logged_operation")
}
