package serial

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.bug.st/serial/enumerator"
)

// Device names that identify serial hardware.
var serialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^ttyUSB\d+$`), // USB serial adapters
	regexp.MustCompile(`^ttyACM\d+$`), // USB CDC/ACM devices
	regexp.MustCompile(`^ttyS\d+$`),   // Standard serial ports
	regexp.MustCompile(`^ttyAMA\d+$`), // ARM/Raspberry Pi serial
	regexp.MustCompile(`^ttymxc\d+$`), // i.MX serial ports
	regexp.MustCompile(`^ttyO\d+$`),   // OMAP serial ports
	regexp.MustCompile(`^ttySAC\d+$`), // Samsung serial ports
	regexp.MustCompile(`^ttyTHS\d+$`), // Tegra serial ports
}

// Virtual terminals and other non-serial devices
var excludePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^tty\d+$`),
	regexp.MustCompile(`^console$`),
	regexp.MustCompile(`^ptmx$`),
	regexp.MustCompile(`^pty.*$`),
	regexp.MustCompile(`^pts/.*$`),
}

func matchesAny(patterns []*regexp.Regexp, name string) bool {
	for _, pattern := range patterns {
		if pattern.MatchString(name) {
			return true
		}
	}
	return false
}

// isSerialName reports whether a /dev entry name looks like a serial port.
func isSerialName(name string) bool {
	return !matchesAny(excludePatterns, name) && matchesAny(serialPatterns, name)
}

// ListPorts returns a list of available serial ports on the system
// Filters for communication-capable devices and excludes virtual terminals
func ListPorts() ([]string, error) {
	return listPortsIn("/dev")
}

func listPortsIn(devDir string) ([]string, error) {
	entries, err := os.ReadDir(devDir)
	if err != nil {
		return nil, err
	}

	var ports []string
	for _, entry := range entries {
		if !isSerialName(entry.Name()) {
			continue
		}
		fullPath := filepath.Join(devDir, entry.Name())
		if isCharacterDevice(fullPath) {
			ports = append(ports, fullPath)
		}
	}

	sort.Strings(ports)
	return ports, nil
}

// isCharacterDevice checks if the given path is a character device
func isCharacterDevice(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}

	// Check if it's a character device
	mode := info.Mode()
	return mode&os.ModeCharDevice != 0
}

// PortInfo describes a serial port and, for USB adapters, the device behind it.
type PortInfo struct {
	Name         string `json:"name"`
	Path         string `json:"path"`
	Description  string `json:"description"`
	IsUSB        bool   `json:"is_usb"`
	VendorID     string `json:"vendor_id,omitempty"`
	ProductID    string `json:"product_id,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
}

// detailedPorts is replaced in tests.
var detailedPorts = enumerator.GetDetailedPortsList

// GetPortInfo returns detailed information about a specific port
func GetPortInfo(portPath string) (*PortInfo, error) {
	if !isCharacterDevice(portPath) {
		return nil, ErrDeviceNotFound
	}

	info := newPortInfo(portPath)
	if details, err := usbDetails(); err == nil {
		enrichUSBInfo(info, details)
	}
	return info, nil
}

// ListPortInfo returns PortInfo for every port ListPorts finds, querying USB
// metadata once for the whole set.
func ListPortInfo() ([]PortInfo, error) {
	paths, err := ListPorts()
	if err != nil {
		return nil, err
	}

	details, _ := usbDetails()
	infos := make([]PortInfo, 0, len(paths))
	for _, path := range paths {
		info := newPortInfo(path)
		enrichUSBInfo(info, details)
		infos = append(infos, *info)
	}
	return infos, nil
}

func newPortInfo(portPath string) *PortInfo {
	name := filepath.Base(portPath)
	return &PortInfo{
		Name:        name,
		Path:        portPath,
		Description: getPortDescription(name),
	}
}

// getPortDescription provides human-readable descriptions for different port types
func getPortDescription(name string) string {
	switch {
	case strings.HasPrefix(name, "ttyUSB"):
		return "USB Serial Port"
	case strings.HasPrefix(name, "ttyACM"):
		return "USB CDC/ACM Device"
	case strings.HasPrefix(name, "ttyAMA"):
		return "ARM Serial Port"
	case strings.HasPrefix(name, "ttymxc"):
		return "i.MX Serial Port"
	case strings.HasPrefix(name, "ttySAC"):
		return "Samsung Serial Port"
	case strings.HasPrefix(name, "ttyTHS"):
		return "Tegra Serial Port"
	case strings.HasPrefix(name, "ttyO"):
		return "OMAP Serial Port"
	case strings.HasPrefix(name, "ttyS"):
		return "Standard Serial Port"
	default:
		return "Serial Port"
	}
}

func usbDetails() (map[string]*enumerator.PortDetails, error) {
	list, err := detailedPorts()
	if err != nil {
		return nil, ErrUSBInfoNotAvailable
	}
	byPath := make(map[string]*enumerator.PortDetails, len(list))
	for _, d := range list {
		byPath[d.Name] = d
	}
	return byPath, nil
}

// enrichUSBInfo copies VID, PID, serial number and product name reported by
// sysfs for USB adapters.
func enrichUSBInfo(info *PortInfo, details map[string]*enumerator.PortDetails) {
	d, ok := details[info.Path]
	if !ok || !d.IsUSB {
		return
	}
	info.IsUSB = true
	info.VendorID = d.VID
	info.ProductID = d.PID
	info.SerialNumber = d.SerialNumber
	info.Product = d.Product
	if d.Product != "" {
		info.Description = d.Product
	}
}
