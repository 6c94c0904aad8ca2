// Package krontab parses five-field cron-like expressions and computes their
// next occurrence.
//
// An expression holds, in order, the second, minute, hour, day-of-month and
// month fields, separated by whitespace. Each field expands to a FieldSet; the
// sets are folded into candidate combinations (CronDateTime) and the earliest
// instant matching any candidate is the next occurrence:
//
//	s, err := krontab.Parse("0 0 12 * *")
//	if err != nil {
//		return err
//	}
//	next, ok := s.NextAfter(time.Now())
//
// Schedule implements the Schedule interface of github.com/robfig/cron/v3 and
// can be passed to (*cron.Cron).Schedule directly. DoOnce, DoWhile and
// DoForever run a callback at successive occurrences until a context is done.
package krontab
