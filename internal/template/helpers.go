package template

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"
)

// registerHelpers binds the template helper surface (§4.3) onto vm for one
// render call. insert/relative resolve relative paths against e.BaseDir;
// set_state/get_state operate on cc.State; shell is context-aware so a
// client cancellation aborts an in-flight shell invocation (§5).
func (e *Engine) registerHelpers(ctx context.Context, vm *goja.Runtime, cc *CallContext) {
	_ = vm.Set("insert", e.jsInsert(vm))
	_ = vm.Set("relative", e.jsRelative(vm))
	_ = vm.Set("shell", e.jsShell(ctx, vm))
	_ = vm.Set("set_state", jsSetState(vm, cc))
	_ = vm.Set("get_state", jsGetState(vm, cc))
}

func (e *Engine) jsInsert(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return goja.Undefined()
		}
		path := call.Argument(0).String()
		useCache := true
		if v := call.Argument(2); !goja.IsUndefined(v) && v != nil {
			useCache = v.ToBoolean()
		}

		abs := path
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(e.BaseDir, abs)
		}

		if useCache {
			if cached, ok := e.filesCache.Load(abs); ok {
				return vm.ToValue(cached.(string))
			}
		}

		data, err := os.ReadFile(abs)
		if err != nil {
			e.logError("insert: failed to read file", "path", abs, "error", err)
			return goja.Undefined()
		}

		content := string(data)
		if useCache {
			actual, _ := e.filesCache.LoadOrStore(abs, content)
			content = actual.(string)
		}
		return vm.ToValue(content)
	}
}

func (e *Engine) jsRelative(vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		if filepath.IsAbs(name) {
			return vm.ToValue(name)
		}
		return vm.ToValue(filepath.Join(e.BaseDir, name))
	}
}

func (e *Engine) jsShell(ctx context.Context, vm *goja.Runtime) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		args := call.Arguments
		if len(args) == 0 {
			return goja.Undefined()
		}
		program := args[0].String()

		var stdin string
		var positional []string
		for i := 1; i < len(args); i++ {
			v := args[i]
			if i == len(args)-1 {
				if obj, ok := v.(*goja.Object); ok {
					if stdinVal := obj.Get("stdin"); stdinVal != nil && !goja.IsUndefined(stdinVal) {
						stdin = stdinVal.String()
						continue
					}
				}
			}
			positional = append(positional, v.String())
		}

		cmd := exec.CommandContext(ctx, program, positional...)
		cmd.Stdin = strings.NewReader(stdin)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		runErr := cmd.Run()
		code := 0
		if runErr != nil {
			if exitErr, ok := runErr.(*exec.ExitError); ok {
				code = exitErr.ExitCode()
			} else {
				e.logError("shell: failed to launch program", "program", program, "error", runErr)
				return goja.Undefined()
			}
		}

		result := vm.NewObject()
		_ = result.Set("code", code)
		_ = result.Set("stdout", stdout.String())
		_ = result.Set("stderr", stderr.String())
		return result
	}
}

func jsSetState(vm *goja.Runtime, cc *CallContext) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if cc.State == nil {
			return goja.Undefined()
		}
		cc.State.Set(call.Argument(0).Export())
		return goja.Undefined()
	}
}

func jsGetState(vm *goja.Runtime, cc *CallContext) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if cc.State == nil {
			return goja.Undefined()
		}
		return vm.ToValue(cc.State.Get())
	}
}
