package request

// State is the view of one logical resource. At most one of Data and Err is
// set, and Loading implies neither is.
type State[T any] struct {
	Loading bool
	Data    *T
	Err     error
}

// Begin is the Idle/terminal -> Loading transition. Prior data and error are
// cleared.
func Begin[T any](State[T]) State[T] {
	return State[T]{Loading: true}
}

// Succeed is the Loading -> Success transition.
func Succeed[T any](_ State[T], data T) State[T] {
	return State[T]{Data: &data}
}

// Fail is the Loading -> Error transition.
func Fail[T any](_ State[T], err error) State[T] {
	return State[T]{Err: err}
}

// Idle reports whether no request has been issued or completed yet.
func (s State[T]) Idle() bool {
	return !s.Loading && s.Data == nil && s.Err == nil
}
