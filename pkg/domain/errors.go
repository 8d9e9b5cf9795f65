package domain

import "errors"

// ErrRunNotFound is returned when a run ID cannot be found in the store.
var ErrRunNotFound = errors.New("run not found")

// ErrRunFinished is returned when stepping a run that already reached the terminal node.
var ErrRunFinished = errors.New("run already finished")

// ErrGraphNotFound is returned by loaders for unknown graph names.
var ErrGraphNotFound = errors.New("graph not found")

// ErrUnknownKind is returned when a graph references a node kind nobody registered.
var ErrUnknownKind = errors.New("unknown node kind")

// ErrGraphChanged is returned when a stored run was started against a different graph.
var ErrGraphChanged = errors.New("graph changed since run started")

// ErrStepCeiling is the run error recorded when the engine circuit breaker trips.
var ErrStepCeiling = errors.New("step ceiling exceeded")
