package sectorcache_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestSectorCache(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Sector Cache Suite")
}
