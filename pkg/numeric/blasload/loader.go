// Package blasload locates and binds an optional system BLAS shared
// library through purego (no cgo), for the C1 "optional BLAS backend"
// called out in spec.md §4.1. When no library can be found, callers fall
// back to the pure-Go gonum path in pkg/numeric — Dgemm only ever
// accelerates, it is never required for correctness.
//
// Adapted from the llama.cpp dynamic loader in the qubicdb vector
// package: same lazy-load-once, searched-directory-list shape, retargeted
// at cblas_dgemm instead of an embedding model.
package blasload

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/ebitengine/purego"
)

// CBLAS order/transpose enums (CBLAS_ORDER / CBLAS_TRANSPOSE).
const (
	cblasRowMajor int32 = 101
	cblasNoTrans  int32 = 111
	cblasTrans    int32 = 112
)

var (
	libptr     uintptr
	libOnce    sync.Once
	libErr     error
	cblasDgemm func(order, transA, transB int32, m, n, k int32, alpha float64, a uintptr, lda int32, b uintptr, ldb int32, beta float64, c uintptr, ldc int32)
)

func initLibrary() error {
	libOnce.Do(func() {
		path, err := findBLAS()
		if err != nil {
			libErr = err
			return
		}
		if libptr, err = load(path); err != nil {
			libErr = err
			return
		}
		purego.RegisterLibFunc(&cblasDgemm, libptr, "cblas_dgemm")
	})
	return libErr
}

// Available reports whether a BLAS shared library was found and its
// symbols bound, without forcing an error if not.
func Available() bool {
	return initLibrary() == nil
}

func findBLAS() (string, error) {
	var names []string
	switch runtime.GOOS {
	case "windows":
		names = []string{"openblas.dll", "libopenblas.dll"}
	case "darwin":
		names = []string{"libblas.dylib", "libopenblas.dylib"}
	default:
		names = []string{"libopenblas.so", "libopenblas.so.0", "libblas.so.3", "libblas.so"}
	}

	checked := make([]string, 0, len(names)*4)
	for _, dir := range libDirs() {
		for _, name := range names {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
			checked = append(checked, path)
		}
	}
	return "", fmt.Errorf("no BLAS shared library found, checked:\n\t- %s", strings.Join(checked, "\n\t- "))
}

func libDirs() []string {
	dirs := []string{"/usr/lib", "/usr/local/lib", "/usr/lib/x86_64-linux-gnu"}
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	for _, envKey := range []string{"LD_LIBRARY_PATH", "DYLD_LIBRARY_PATH"} {
		if val := os.Getenv(envKey); val != "" {
			dirs = append(dirs, strings.Split(val, ":")...)
		}
	}
	if runtime.GOOS == "darwin" {
		dirs = append(dirs, "/opt/homebrew/lib", "/opt/homebrew/opt/openblas/lib")
	}
	if runtime.GOOS == "windows" {
		if val := os.Getenv("PATH"); val != "" {
			dirs = append(dirs, strings.Split(val, ";")...)
		}
	}
	return dirs
}
