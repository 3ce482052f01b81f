package core

import "dataspace/pkg/domain"

type (
	Envelope         = domain.Envelope
	ChangeState      = domain.ChangeState
	ChangeRecord     = domain.ChangeRecord
	PropertyBag      = domain.PropertyBag
	Session          = domain.Session
	SessionFactory   = domain.SessionFactory
	OperationContext = domain.OperationContext
	WriteSummary     = domain.WriteSummary
)

const (
	StateNotChanged     = domain.StateNotChanged
	StateAdded          = domain.StateAdded
	StateChanged        = domain.StateChanged
	StateAddedOrChanged = domain.StateAddedOrChanged
	StateDeleted        = domain.StateDeleted
)
