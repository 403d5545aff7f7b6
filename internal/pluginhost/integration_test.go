// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package pluginhost_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/plughost/internal/plugin"
	"github.com/holomush/plughost/internal/pluginhost"
)

// repoPath resolves a path relative to the repository root.
func repoPath(elem ...string) string {
	_, file, _, ok := runtime.Caller(0)
	Expect(ok).To(BeTrue())
	return filepath.Join(append([]string{filepath.Dir(file), "..", ".."}, elem...)...)
}

// copyDir copies the regular files of src into dst, recursively.
func copyDir(src, dst string) {
	err := filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o750)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o600)
	})
	Expect(err).NotTo(HaveOccurred())
}

var _ = Describe("Plugin host", func() {
	var (
		ctx    context.Context
		root   string
		logger *slog.Logger
	)

	BeforeEach(func() {
		ctx = context.Background()
		root = GinkgoT().TempDir()
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	})

	newFolderHost := func() *pluginhost.Host {
		h, err := pluginhost.New(pluginhost.Config{
			Mode:      pluginhost.FolderMode{RootPath: root},
			CacheRoot: filepath.Join(GinkgoT().TempDir(), "cache"),
		}, pluginhost.WithLogger(logger))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = h.Close(context.Background()) })
		return h
	}

	Describe("the bundled Lua greeter", func() {
		BeforeEach(func() {
			copyDir(repoPath("plugins", "greeter"), filepath.Join(root, "greeter"))
		})

		It("loads and answers calls", func() {
			h := newFolderHost()
			Expect(h.Reload(ctx)).To(Succeed())

			lp, ok := h.Find("greeter")
			Expect(ok).To(BeTrue())
			Expect(lp.Instance.Exports()).To(ContainElements("greet", "salutation"))

			out, err := lp.Instance.Call(ctx, "greet", "Ada")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal([]any{"Hello, Ada!"}))
		})

		It("picks up edits to required modules on reload", func() {
			h := newFolderHost()
			Expect(h.Reload(ctx)).To(Succeed())

			lib := filepath.Join(root, "greeter", "lib", "greeting.lua")
			edited := []byte(`local M = {}
M.salutation = "Howdy"
function M.format(name) return M.salutation .. ", " .. name .. "!" end
return M
`)
			Expect(os.WriteFile(lib, edited, 0o600)).To(Succeed())
			Expect(h.Reload(ctx)).To(Succeed())

			lp, _ := h.Find("greeter")
			out, err := lp.Instance.Call(ctx, "greet", "Ada")
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal([]any{"Howdy, Ada!"}))
		})
	})

	Describe("the bundled binary echo plugin", func() {
		BeforeEach(func() {
			if _, err := exec.LookPath("go"); err != nil {
				Skip("go toolchain not available to build the echo plugin")
			}
			dir := filepath.Join(root, "echo")
			copyDir(repoPath("plugins", "echo"), dir)

			build := exec.Command("go", "build", "-o", filepath.Join(dir, "echo"), "./plugins/echo")
			build.Dir = repoPath()
			out, err := build.CombinedOutput()
			Expect(err).NotTo(HaveOccurred(), string(out))
		})

		It("runs in a fresh process per reload", func() {
			h := newFolderHost()
			Expect(h.Reload(ctx)).To(Succeed())

			first, ok := h.Find("echo")
			Expect(ok).To(BeTrue())
			out, err := first.Instance.Call(ctx, "echo", "hi", 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(out).To(Equal([]any{"Echo: hi 3"}))

			gen, ok := first.Instance.Value("generation")
			Expect(ok).To(BeTrue())
			Expect(gen).To(Equal(first.Generation.String()))

			Expect(h.Reload(ctx)).To(Succeed())
			second, _ := h.Find("echo")
			Expect(second.Generation).NotTo(Equal(first.Generation))

			_, err = first.Instance.Call(ctx, "echo")
			Expect(err).To(MatchError(plugin.ErrModuleClosed))
		})
	})

	Describe("mixed roots", func() {
		It("keeps good plugins when others fail", func() {
			copyDir(repoPath("plugins", "greeter"), filepath.Join(root, "greeter"))
			Expect(os.MkdirAll(filepath.Join(root, "broken"), 0o750)).To(Succeed())
			Expect(os.WriteFile(filepath.Join(root, "broken", plugin.ManifestFile),
				[]byte(`{"name":"broken","version":"1","entryPoint":"main.lua"}`), 0o600)).To(Succeed())
			Expect(os.WriteFile(filepath.Join(root, "broken", "main.lua"), []byte(`error("nope")`), 0o600)).To(Succeed())

			h := newFolderHost()
			Expect(h.Reload(ctx)).To(Succeed())

			names := []string{}
			for _, lp := range h.GetAll() {
				names = append(names, lp.Manifest.Name)
			}
			Expect(names).To(Equal([]string{"greeter"}))
		})
	})
})
