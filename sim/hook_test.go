package sim

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("HookableBase", func() {
	It("should invoke hooks in registration order", func() {
		h := NewHookableBase()
		order := []string{}
		h.AcceptHook(HookFunc(func(HookCtx) { order = append(order, "a") }))
		h.AcceptHook(HookFunc(func(HookCtx) { order = append(order, "b") }))

		h.InvokeHook(HookCtx{Pos: HookPosBeforeEvent})

		Expect(h.NumHooks()).To(Equal(2))
		Expect(order).To(Equal([]string{"a", "b"}))
	})

	It("should accept hooks while invoking", func() {
		h := NewHookableBase()
		var wg sync.WaitGroup

		for i := 0; i < 8; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				h.AcceptHook(HookFunc(func(HookCtx) {}))
			}()
			go func() {
				defer wg.Done()
				h.InvokeHook(HookCtx{Pos: HookPosAfterEvent})
			}()
		}
		wg.Wait()

		Expect(h.NumHooks()).To(Equal(8))
	})
})
