package offchip_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestOffchip(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Offchip Suite")
}
