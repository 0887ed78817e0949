package fillpolicy_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestFillPolicy(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Fill Policy Suite")
}
