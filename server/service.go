package server

import (
	"context"
	"reflect"

	"github.com/pkg/errors"
)

type methodType struct {
	id        uint16
	method    reflect.Method
	ArgType   reflect.Type
	ReplyType reflect.Type
}

type service struct {
	name    string
	rcvr    reflect.Value
	typ     reflect.Type
	methods []*methodType // Indexed by method id
	byName  map[string]*methodType
}

// newService 创建 service 并扫描所有合法方法
func newService(name string, rcvr any) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, errors.Errorf("rpc: rcvr must be a pointer, got %v", typ)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, errors.Errorf("rpc: rcvr must point to a struct, got %s", typ.Elem().Kind())
	}
	if name == "" {
		name = typ.Elem().Name()
	}
	svc := &service{
		name:   name,
		rcvr:   reflect.ValueOf(rcvr),
		typ:    typ,
		byName: make(map[string]*methodType),
	}
	svc.registerMethods()
	if len(svc.methods) == 0 {
		return nil, errors.Errorf("rpc: type %s has no exported methods of suitable type", typ)
	}
	return svc, nil
}

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// registerMethods 扫描 struct 的导出方法，过滤出符合 RPC 签名的
//
//	func (t *T) Name(ctx context.Context, args *A, reply *R) error
//
// reflect lists methods in lexical order, so the method id of each method is
// its position among the qualifying ones.
func (s *service) registerMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		method := s.typ.Method(i)
		mt := method.Type
		if mt.NumIn() != 4 || mt.NumOut() != 1 || mt.Out(0) != errorType ||
			mt.In(1) != contextType ||
			mt.In(2).Kind() != reflect.Ptr || mt.In(3).Kind() != reflect.Ptr {
			continue
		}
		m := &methodType{
			id:        uint16(len(s.methods)),
			method:    method,
			ArgType:   mt.In(2).Elem(),
			ReplyType: mt.In(3).Elem(),
		}
		s.methods = append(s.methods, m)
		s.byName[method.Name] = m
	}
}

func (s *service) lookup(id uint16) (*methodType, bool) {
	if int(id) >= len(s.methods) {
		return nil, false
	}
	return s.methods[id], true
}

// call 通过反射调用方法
func (s *service) call(ctx context.Context, m *methodType, argv, replyv reflect.Value) error {
	args := [4]reflect.Value{s.rcvr, reflect.ValueOf(ctx), argv, replyv}
	results := m.method.Func.Call(args[:])
	if !results[0].IsNil() {
		return results[0].Interface().(error)
	}
	return nil
}
