// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux
// +build linux

package mroute

import (
	"encoding/binary"
	"net"

	"golang.org/x/sys/unix"

	"grimm.is/igmpproxy/internal/errs"
)

// Linux kernel multicast routing socket options (linux/mroute.h). The
// x/sys/unix package does not export these — they are a small, stable
// ABI surface that has not changed since 2.2, so we define the numeric
// constants and the raw struct layouts ourselves rather than pull in a
// dependency whose only purpose would be these dozen integers.
const (
	mrtBase   = 200
	mrtInit   = mrtBase + 0
	mrtAddVIF = mrtBase + 2
	mrtAddMFC = mrtBase + 4
	mrtDelMFC = mrtBase + 5

	ipMsfilter = 41
	maxVIFs    = 32

	mcastInclude = 0
	mcastExclude = 1

	// igmpmsgNocache is IGMPMSG_NOCACHE from linux/mroute.h: the kernel
	// forwarded a first data packet for a (origin, group) pair with no
	// matching MFC entry and is asking the routing daemon to install one.
	igmpmsgNocache = 1
)

// LinuxTable drives the kernel MFC and IP_MSFILTER through a raw IGMP
// socket, per RFC 4605's simple multicast proxy model.
type LinuxTable struct {
	fd      int
	upcalls chan Upcall
}

var _ Table = (*LinuxTable)(nil)

// NewLinuxTable opens the raw IGMP socket the MRT_* and IP_MSFILTER
// calls are issued against. Source filters set through it carry the
// interface address 0.0.0.0 (see SetSourceFilter).
func NewLinuxTable() (*LinuxTable, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_IGMP)
	if err != nil {
		return nil, errs.Wrap(err, errs.KindFatal, "open raw igmp socket")
	}
	return &LinuxTable{fd: fd, upcalls: make(chan Upcall, 64)}, nil
}

func (t *LinuxTable) Init() error {
	// MRT_INIT takes an int optval (traditionally IGMP protocol number).
	if err := unix.SetsockoptInt(t.fd, unix.IPPROTO_IP, mrtInit, unix.IPPROTO_IGMP); err != nil {
		return errs.Wrap(err, errs.KindKernelCall, "MRT_INIT")
	}
	go t.readUpcalls()
	return nil
}

// readUpcalls drains the MRT_INIT socket for kernel NOCACHE
// notifications. The kernel overlays struct igmpmsg on the same 20
// bytes a received IP header would occupy, forcing the byte at the
// protocol-field offset (9) to zero; a real received IGMP packet
// always carries IPPROTO_IGMP (2) there, which is how the two are
// told apart on one socket. Exits, closing the channel, once the
// socket is closed.
func (t *LinuxTable) readUpcalls() {
	defer close(t.upcalls)
	buf := make([]byte, 256)
	for {
		n, err := unix.Read(t.fd, buf)
		if err != nil {
			return
		}
		if n < 20 || buf[9] != 0 || buf[8] != igmpmsgNocache {
			continue
		}
		up := Upcall{
			Origin: net.IPv4(buf[12], buf[13], buf[14], buf[15]),
			Group:  net.IPv4(buf[16], buf[17], buf[18], buf[19]),
		}
		select {
		case t.upcalls <- up:
		default:
		}
	}
}

// Upcalls implements Table.
func (t *LinuxTable) Upcalls() <-chan Upcall {
	return t.upcalls
}

// vifctl mirrors Linux's struct vifctl: vifi_t (uint16), 2 flag bytes,
// a uint32 rate limit, a 4-byte local-interface union (we always use
// VIFF_USE_IFINDEX), and a 4-byte remote tunnel address (unused).
func packVifctl(vifIndex int, ifaceIndex int, threshold uint8) []byte {
	const viffUseIfindex = 0x8
	buf := make([]byte, 16)
	binary.NativeEndian.PutUint16(buf[0:2], uint16(vifIndex))
	buf[2] = viffUseIfindex // vifc_flags
	buf[3] = threshold      // vifc_threshold
	binary.NativeEndian.PutUint32(buf[4:8], 0)                       // vifc_rate_limit
	binary.NativeEndian.PutUint32(buf[8:12], uint32(ifaceIndex))      // union: vifc_lcl_ifindex
	// buf[12:16] vifc_rmt_addr left zero (no tunnel)
	return buf
}

func (t *LinuxTable) AddVIF(vifIndex int, ifaceIndex int, threshold uint8) error {
	if vifIndex < 0 || vifIndex >= maxVIFs {
		return errs.Errorf(errs.KindResourceExhausted, "vif index %d exceeds kernel limit of %d", vifIndex, maxVIFs)
	}
	buf := packVifctl(vifIndex, ifaceIndex, threshold)
	if err := unix.SetsockoptString(t.fd, unix.IPPROTO_IP, mrtAddVIF, string(buf)); err != nil {
		return errs.Wrap(err, errs.KindKernelCall, "MRT_ADD_VIF")
	}
	return nil
}

// mfcctl mirrors Linux's struct mfcctl: origin/group in_addr (4 bytes
// each, already in network byte order — copied verbatim, never
// byte-swapped), a vifi_t parent, a MAXVIFS ttl vector, then three
// uint32 kernel-maintained counters and an expire field we never set.
func packMfcctl(origin, group net.IP, parentVIF int, ttls []uint8) []byte {
	buf := make([]byte, 60)
	copy(buf[0:4], origin.To4())
	copy(buf[4:8], group.To4())
	binary.NativeEndian.PutUint16(buf[8:10], uint16(parentVIF))
	for i, ttl := range ttls {
		if i >= maxVIFs {
			break
		}
		buf[10+i] = ttl
	}
	// buf[42:44] compiler padding, buf[44:60] counters/expire left zero
	return buf
}

func (t *LinuxTable) AddMFC(origin, group net.IP, parentVIF int, ttls []uint8) error {
	buf := packMfcctl(origin, group, parentVIF, ttls)
	if err := unix.SetsockoptString(t.fd, unix.IPPROTO_IP, mrtAddMFC, string(buf)); err != nil {
		return errs.Wrap(err, errs.KindKernelCall, "MRT_ADD_MFC")
	}
	return nil
}

func (t *LinuxTable) DelMFC(origin, group net.IP) error {
	buf := packMfcctl(origin, group, 0, nil)
	if err := unix.SetsockoptString(t.fd, unix.IPPROTO_IP, mrtDelMFC, string(buf)); err != nil {
		return errs.Wrap(err, errs.KindKernelCall, "MRT_DEL_MFC")
	}
	return nil
}

// ip_msfilter mirrors Linux's struct ip_msfilter: multiaddr, interface,
// fmode, numsrc, then a variable-length source list.
func packMsfilter(group, iface net.IP, mode FilterMode, sources []net.IP) []byte {
	buf := make([]byte, 16+4*len(sources))
	copy(buf[0:4], group.To4())
	copy(buf[4:8], iface.To4())
	fmode := uint32(mcastInclude)
	if mode == FilterExclude {
		fmode = mcastExclude
	}
	binary.NativeEndian.PutUint32(buf[8:12], fmode)
	binary.NativeEndian.PutUint32(buf[12:16], uint32(len(sources)))
	for i, s := range sources {
		copy(buf[16+4*i:20+4*i], s.To4())
	}
	return buf
}

func (t *LinuxTable) SetSourceFilter(group net.IP, mode FilterMode, sources []net.IP) error {
	buf := packMsfilter(group, net.IPv4zero, mode, sources)
	if err := unix.SetsockoptString(t.fd, unix.IPPROTO_IP, ipMsfilter, string(buf)); err != nil {
		return errs.Wrap(err, errs.KindKernelCall, "IP_MSFILTER")
	}
	return nil
}

func (t *LinuxTable) JoinGroup(group net.IP) error {
	mreq := unix.IPMreq{}
	copy(mreq.Multiaddr[:], group.To4())
	if err := unix.SetsockoptIPMreq(t.fd, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, &mreq); err != nil {
		return errs.Wrap(err, errs.KindKernelCall, "IP_ADD_MEMBERSHIP")
	}
	return nil
}

func (t *LinuxTable) LeaveGroup(group net.IP) error {
	mreq := unix.IPMreq{}
	copy(mreq.Multiaddr[:], group.To4())
	if err := unix.SetsockoptIPMreq(t.fd, unix.IPPROTO_IP, unix.IP_DROP_MEMBERSHIP, &mreq); err != nil {
		return errs.Wrap(err, errs.KindKernelCall, "IP_DROP_MEMBERSHIP")
	}
	return nil
}

// Close releases the raw socket.
func (t *LinuxTable) Close() error {
	return unix.Close(t.fd)
}
