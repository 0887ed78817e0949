package lmp_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestLMP(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "LMP Suite")
}
