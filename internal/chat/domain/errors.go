package domain

import errprocess "chat_sync_service/pkg/err"

// Failure kinds of the sync core, match with errors.Is
var (
	// ErrValidation empty content, missing ids; rejected before any I/O
	ErrValidation = errprocess.NewKind("validation failure")
	// ErrTransport network or realtime channel error
	ErrTransport = errprocess.NewKind("transport failure")
	// ErrPartialWrite a multi step write stopped half way, not compensated
	ErrPartialWrite = errprocess.NewKind("partial write failure")
	// ErrChannelTeardown channel close failed, bookkeeping removed anyway
	ErrChannelTeardown = errprocess.NewKind("channel teardown failure")
)
