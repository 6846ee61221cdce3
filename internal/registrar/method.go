package registrar

import (
	"fmt"
	"reflect"

	"github.com/dshills/panelbus/internal/event"
)

var (
	eventRType = reflect.TypeOf(event.Event{})
	errorType  = reflect.TypeOf((*error)(nil)).Elem()
)

// bindMethod resolves a tag to a handler bound to instance.
func bindMethod(instance any, tag Tagged) Binding {
	b := Binding{EventType: tag.EventType, Method: tag.Method}

	v := reflect.ValueOf(instance)
	m := v.MethodByName(tag.Method)
	if tag.Method == "" || !m.IsValid() {
		b.Err = fmt.Errorf("%w: %s", ErrMethodNotFound, tag.Method)
		return b
	}
	if err := checkSignature(m.Type()); err != nil {
		b.Err = err
		return b
	}

	b.Method = fmt.Sprintf("%s.%s", v.Type(), tag.Method)
	b.Handler = adapt(m)
	return b
}

// checkSignature accepts func(T) and func(T) error where an Event is
// assignable to T.
func checkSignature(t reflect.Type) error {
	if t.Kind() != reflect.Func || t.IsVariadic() {
		return fmt.Errorf("%w: got %s", ErrBadSignature, t)
	}
	if t.NumIn() != 1 || !eventRType.AssignableTo(t.In(0)) {
		return fmt.Errorf("%w: got %s", ErrBadSignature, t)
	}
	switch t.NumOut() {
	case 0:
	case 1:
		if t.Out(0) != errorType {
			return fmt.Errorf("%w: got %s", ErrBadSignature, t)
		}
	default:
		return fmt.Errorf("%w: got %s", ErrBadSignature, t)
	}
	return nil
}

func adapt(m reflect.Value) event.Handler {
	switch fn := m.Interface().(type) {
	case func(event.Event):
		return event.Func(fn)
	case func(event.Event) error:
		return event.HandlerFunc(fn)
	}

	returnsErr := m.Type().NumOut() == 1
	return event.HandlerFunc(func(ev event.Event) error {
		out := m.Call([]reflect.Value{reflect.ValueOf(ev)})
		if returnsErr && !out[0].IsNil() {
			return out[0].Interface().(error)
		}
		return nil
	})
}
