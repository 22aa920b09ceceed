package device

import (
	"runtime"
	"strings"

	"golang.org/x/sys/cpu"
)

// Features describes the host CPU for load-time logging.
func Features() string {
	var flags []string
	switch runtime.GOARCH {
	case "amd64":
		if cpu.X86.HasAVX2 {
			flags = append(flags, "avx2")
		}
		if cpu.X86.HasFMA {
			flags = append(flags, "fma")
		}
		if cpu.X86.HasAVX512F {
			flags = append(flags, "avx512f")
		}
	case "arm64":
		if cpu.ARM64.HasASIMD {
			flags = append(flags, "asimd")
		}
		if cpu.ARM64.HasFPHP {
			flags = append(flags, "fp16")
		}
	}
	if len(flags) == 0 {
		return runtime.GOARCH
	}
	return runtime.GOARCH + "+" + strings.Join(flags, "+")
}
