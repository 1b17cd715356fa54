package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"dlsched/pkg/deadline"
)

// workloadFile is the on-disk shape of the YAML task list cmd/edfsimd
// admits at startup (SPEC_FULL.md §6: "a YAML workload file (list of
// tasks with runtime/deadline/period/flags and initial CPU affinity)").
type workloadFile struct {
	Tasks []taskFile `yaml:"tasks"`
}

type taskFile struct {
	ID          int64  `yaml:"id"`
	RuntimeNS   int64  `yaml:"runtimeNs"`
	DeadlineNS  int64  `yaml:"deadlineNs"`
	PeriodNS    int64  `yaml:"periodNs"`
	Weight      uint32 `yaml:"weight"`
	AllowedCPUs []int  `yaml:"allowedCpus"`
	SUGOV       bool   `yaml:"sugov"`
}

const defaultTaskWeight = uint32(1024)

func loadWorkload(path string) ([]*deadline.Task, []bool, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil, nil
	}

	data, err := os.ReadFile(trimmed)
	if err != nil {
		return nil, nil, fmt.Errorf("read workload file %q: %w", trimmed, err)
	}

	var file workloadFile

	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, nil, fmt.Errorf("decode workload file %q: %w", trimmed, err)
	}

	tasks := make([]*deadline.Task, 0, len(file.Tasks))
	sugov := make([]bool, 0, len(file.Tasks))

	for _, tf := range file.Tasks {
		weight := tf.Weight
		if weight == 0 {
			weight = defaultTaskWeight
		}

		allowed := make(map[int]bool, len(tf.AllowedCPUs))
		for _, cpu := range tf.AllowedCPUs {
			allowed[cpu] = true
		}

		params := deadline.Params{Runtime: tf.RuntimeNS, Deadline: tf.DeadlineNS, Period: tf.PeriodNS}

		tasks = append(tasks, deadline.NewTask(deadline.TaskID(tf.ID), params, allowed, weight))
		sugov = append(sugov, tf.SUGOV)
	}

	return tasks, sugov, nil
}
