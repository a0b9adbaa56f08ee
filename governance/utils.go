package governance

import (
	"fmt"
	"net"
	"strconv"

	"github.com/google/uuid"
)

// GetLocalIP 第一个非回环 IPv4 地址
func GetLocalIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1", err
	}

	for _, address := range addrs {
		if ipnet, ok := address.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipnet.IP.To4() != nil {
				return ipnet.IP.String(), nil
			}
		}
	}

	return "127.0.0.1", fmt.Errorf("no valid IP found")
}

// FormatServiceAddress host + port -> "host:port"（IPv6 自动加方括号）
func FormatServiceAddress(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// ParseServiceAddress "127.0.0.1:9002" -> ("127.0.0.1", 9002)
func ParseServiceAddress(address string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return "", 0, fmt.Errorf("invalid address format: %w", err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port: %w", err)
	}
	if port <= 0 || port > 65535 {
		return "", 0, ErrInvalidPort
	}

	return host, port, nil
}

// GenerateInstanceID 生成实例 ID：<service>-<uuid>
func GenerateInstanceID(serviceName string) string {
	return serviceName + "-" + uuid.NewString()
}
