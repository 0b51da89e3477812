//go:build linux

package ebpf

import (
	"github.com/cilium/ebpf"
)

// bpfObjects mirrors the maps and programs compiled into the kernwatch object.
type bpfObjects struct {
	Events     *ebpf.Map `ebpf:"events"`
	AuxBuffers *ebpf.Map `ebpf:"aux_buffers"`

	KprobeSecurityFileOpen     *ebpf.Program `ebpf:"kprobe_security_file_open"`
	KprobeSecurityInodeUnlink  *ebpf.Program `ebpf:"kprobe_security_inode_unlink"`
	KprobeSecurityInodeRename  *ebpf.Program `ebpf:"kprobe_security_inode_rename"`
	KprobeSecuritySocketBind   *ebpf.Program `ebpf:"kprobe_security_socket_bind"`
	KprobeSecuritySocketConn   *ebpf.Program `ebpf:"kprobe_security_socket_connect"`
	TracepointSchedProcessExec *ebpf.Program `ebpf:"handle_sched_process_exec"`
}

func (o *bpfObjects) Close() error {
	if o == nil {
		return nil
	}

	if o.Events != nil {
		o.Events.Close()
	}
	if o.AuxBuffers != nil {
		o.AuxBuffers.Close()
	}
	if o.KprobeSecurityFileOpen != nil {
		o.KprobeSecurityFileOpen.Close()
	}
	if o.KprobeSecurityInodeUnlink != nil {
		o.KprobeSecurityInodeUnlink.Close()
	}
	if o.KprobeSecurityInodeRename != nil {
		o.KprobeSecurityInodeRename.Close()
	}
	if o.KprobeSecuritySocketBind != nil {
		o.KprobeSecuritySocketBind.Close()
	}
	if o.KprobeSecuritySocketConn != nil {
		o.KprobeSecuritySocketConn.Close()
	}
	if o.TracepointSchedProcessExec != nil {
		o.TracepointSchedProcessExec.Close()
	}
	return nil
}
