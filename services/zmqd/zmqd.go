// Package zmqd publishes emitted flow reports over a ZeroMQ PUB
// socket so that external flow-metadata consumers can subscribe to a
// live feed instead of polling the REST query API.
package zmqd

import (
	"sync"

	zmq "github.com/pebbe/zmq4"

	"github.com/untangle/tlsflowd/services/logger"
	"github.com/untangle/tlsflowd/services/overseer"
)

const defaultEndpoint = "tcp://*:5560"

var socket *zmq.Socket
var socketMutex sync.Mutex

// Startup binds the PUB socket the export feed is published on.
func Startup(endpoint string) {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}

	sock, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		logger.Err("Failed to create zmq PUB socket: %s\n", err.Error())
		return
	}
	if err := sock.Bind(endpoint); err != nil {
		logger.Err("Failed to bind zmq PUB socket to %s: %s\n", endpoint, err.Error())
		sock.Close()
		return
	}

	socketMutex.Lock()
	socket = sock
	socketMutex.Unlock()

	logger.Info("ZMQ publisher bound to %s\n", endpoint)
}

// Shutdown closes the PUB socket.
func Shutdown() {
	socketMutex.Lock()
	defer socketMutex.Unlock()
	if socket != nil {
		socket.Close()
		socket = nil
	}
}

// Publish sends one multipart message: the topic (server name or IP,
// for subscriber-side filtering) followed by the JSON report payload.
func Publish(topic string, reportJSON []byte) {
	socketMutex.Lock()
	sock := socket
	socketMutex.Unlock()

	if sock == nil {
		return
	}

	if _, err := sock.SendMessage(topic, reportJSON); err != nil {
		logger.Warn("Failed to publish flow report: %s\n", err.Error())
		return
	}
	overseer.AddCounter("zmqd_reports_published", 1)
}
