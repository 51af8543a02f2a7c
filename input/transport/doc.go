// Package transport provides the stream sockets sensor peripherals connect to.
//
// Two listener kinds exist behind the same Listener interface:
//
//   - rfcomm: a Bluetooth RFCOMM (serial port profile) socket opened with
//     AF_BLUETOOTH/SOCK_STREAM/BTPROTO_RFCOMM. Channel 0 asks the kernel for
//     any free channel; Addr reports the one actually bound. Linux only.
//   - tcp: a plain TCP listener, used for development and tests where no
//     Bluetooth adapter is present.
//
// Closing a Listener unblocks a pending Accept, which then returns
// errors.ErrListenerClosed. Listen retries the bind according to
// TransportConfig.BindAttempts.
//
// Advertiser is the boundary for publishing the service record (name and
// serial port UUID) so phones can discover the channel. LogAdvertiser, the
// implementation shipped here, records and logs the registration; SDP
// registration against a Bluetooth daemon is left to platform glue.
package transport
