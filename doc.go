// Package serial is the device layer of uart-mcp: it owns a single Linux
// serial device through termios and exposes timeout-bounded I/O that keeps
// working across configuration changes.
//
// # Basic Usage
//
// Open a serial port with default configuration (115200 8N1, no flow control,
// one second read and write timeouts):
//
//	port, err := serial.Open("/dev/ttyUSB0")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer port.Close()
//
//	n, err := port.Write([]byte("AT\r\n"))
//	buffer := make([]byte, 256)
//	n, err = port.Read(buffer)
//	if errors.Is(err, serial.ErrReadTimeout) {
//	    // nothing arrived within the read timeout
//	}
//
// # Configuration Options
//
//	port, err := serial.Open("/dev/ttyUSB0",
//	    serial.WithBaudRate(9600),
//	    serial.WithParity(serial.ParityEven),
//	    serial.WithStopBits(serial.StopBitsTwo),
//	    serial.WithFlowControl(serial.FlowControlRTSCTS),
//	    serial.WithReadTimeout(250*time.Millisecond),
//	)
//
// Supported baud rates are listed in BaudRates. Parity is one of N, E, O, M, S
// and stop bits one of 1, 1.5, 2.
//
// # Hot Reconfiguration
//
// Reconfigure applies new parameters to the open file descriptor. Reads and
// writes in progress pause while the new termios is written, so no transfer
// runs under a half-applied configuration:
//
//	cfg := port.Config()
//	cfg.BaudRate = 115200
//	if err := port.Reconfigure(cfg); err != nil {
//	    // the previous configuration is still active
//	}
//
// # Device Loss
//
// I/O that observes the device going away (EIO, ENXIO, hang-up) returns an
// error matching ErrDisconnected. Probe performs the same check without
// transferring data. Close interrupts blocked reads and writes immediately.
//
// # Port Discovery
//
//	infos, err := serial.ListPortInfo()
//	for _, info := range infos {
//	    fmt.Printf("%s: %s (VID=%s PID=%s)\n", info.Path, info.Description, info.VendorID, info.ProductID)
//	}
package serial
