package platform

import "unsafe"

func stackAddr(p *byte) unsafe.Pointer { return unsafe.Pointer(p) }
