package store

import "k8s.io/klog/v2"

// klogAdapter routes badger's internal logging through klog, so a single
// -v flag controls verbosity for both alertbase's own logs and the
// embedded engine's.
type klogAdapter struct{}

func (klogAdapter) Errorf(format string, args ...any)   { klog.Errorf(format, args...) }
func (klogAdapter) Warningf(format string, args ...any) { klog.Warningf(format, args...) }
func (klogAdapter) Infof(format string, args ...any)    { klog.V(2).Infof(format, args...) }
func (klogAdapter) Debugf(format string, args ...any)   { klog.V(4).Infof(format, args...) }
